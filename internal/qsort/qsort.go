// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package qsort


// Select median of an array of uint8, i.e. the element at index len(a)/2 of the sorted array.
// For even lengths this is the upper of the two middle elements. Partially reorders the array.
func QSelectMedianUint8(a []uint8) uint8 {
    return QSelectUint8(a, (len(a)>>1)+1)
}


// Select kth lowest element from an array of uint8, counting from 1. Partially reorders the array.
func QSelectUint8(a []uint8, k int) uint8 {
    left, right:=0, len(a)-1
    for left<right {
        // partition
        mid:=(left+right)>>1
        pivot := a[mid]
        l, r  := left-1, right+1
        for {
            for {
                l++
                if a[l]>=pivot { break }
            }
            for {
                r--
                if a[r]<=pivot { break }
            }
            if l >= r { break } // index in r
            a[l], a[r] = a[r], a[l]
        }
        index:=r

        offset:=index-left+1
        if k<=offset {
            right=index
        } else {
            left=index+1
            k=k-offset
        }
    }
    return a[left]
}


// Returns minimum and maximum of a non-empty array of uint8
func MinMaxUint8(a []uint8) (min, max uint8) {
    min, max = a[0], a[0]
    for _, v := range a[1:] {
        if v<min { min=v }
        if v>max { max=v }
    }
    return min, max
}
