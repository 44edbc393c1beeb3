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

package rest

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlnoga/bmpmedian/internal/bmp"
	"github.com/mlnoga/bmpmedian/internal/ops"
	_ "github.com/mlnoga/bmpmedian/internal/ops/filter"
	_ "github.com/mlnoga/bmpmedian/internal/ops/post"
	"github.com/mlnoga/bmpmedian/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter() *gin.Engine {
	ctx := ops.NewContext(&bytes.Buffer{})
	return NewRouter(session.New(ctx), ctx)
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) session.State {
	var st session.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st), w.Body.String())
	return st
}

func writeOutlier(t *testing.T, fileName string) {
	img, err := bmp.New(4, 4, 24, nil)
	require.NoError(t, err)
	for row := int32(0); row < 4; row++ {
		for col := int32(0); col < 4; col++ {
			img.Set(row, col, bmp.RGB{R: 100, G: 100, B: 100})
		}
	}
	img.Set(1, 1, bmp.RGB{R: 250, G: 0, B: 30})
	require.NoError(t, img.SaveAs(fileName))
}

// Changes into a fresh temporary directory for the duration of the test
func chdirTemp(t *testing.T) string {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestPingAndIndex(t *testing.T) {
	r := newTestRouter()
	w := do(r, http.MethodGet, "/api/v1/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())

	w = do(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Adaptive median")
}

func TestNotLoaded(t *testing.T) {
	r := newTestRouter()
	w := do(r, http.MethodGet, "/api/v1/state", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeState(t, w).Loaded)

	for _, path := range []string{"/api/v1/adaptive", "/api/v1/save", "/api/v1/restore"} {
		w = do(r, http.MethodPost, path, "")
		assert.Equal(t, http.StatusConflict, w.Code, path)
	}
	w = do(r, http.MethodPost, "/api/v1/filter", `{"windowSize":3}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = do(r, http.MethodGet, "/api/v1/image.png", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSessionWorkflow(t *testing.T) {
	dir := chdirTemp(t)
	writeOutlier(t, "a.bmp")
	r := newTestRouter()

	w := do(r, http.MethodPost, "/api/v1/load", `{"fileName":"a.bmp"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decodeState(t, w)
	assert.True(t, st.Loaded)
	assert.Equal(t, int32(4), st.Width)

	w = do(r, http.MethodPost, "/api/v1/filter", `{"windowSize":4}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodPost, "/api/v1/filter", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/filter", `{"windowSize":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeState(t, w).Dirty)

	w = do(r, http.MethodGet, "/api/v1/image.png", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	m, err := png.Decode(w.Body)
	require.NoError(t, err)
	rr, _, _, _ := m.At(1, 2).RGBA()
	assert.Equal(t, uint32(100), rr>>8)

	w = do(r, http.MethodPost, "/api/v1/saveAs", `{"fileName":"b.bmp"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st = decodeState(t, w)
	assert.False(t, st.Dirty)
	assert.Equal(t, "b.bmp", st.Path)

	w = do(r, http.MethodPost, "/api/v1/adaptive", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		State     session.State `json:"state"`
		Kept      int64         `json:"kept"`
		Replaced  int64         `json:"replaced"`
		Exhausted int64         `json:"exhausted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(16), res.Kept+res.Replaced+res.Exhausted)
	assert.True(t, res.State.Dirty)

	w = do(r, http.MethodPost, "/api/v1/restore", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decodeState(t, w).Dirty)

	w = do(r, http.MethodGet, "/api/v1/image.bmp", "")
	require.Equal(t, http.StatusOK, w.Code)
	saved, err := os.ReadFile(filepath.Join(dir, "b.bmp"))
	require.NoError(t, err)
	assert.Equal(t, saved, w.Body.Bytes())
}

func TestLoadErrors(t *testing.T) {
	chdirTemp(t)
	r := newTestRouter()
	w := do(r, http.MethodPost, "/api/v1/load", `{"fileName":"missing.bmp"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, os.WriteFile("bad.bmp", []byte("BMxx"), 0644))
	w = do(r, http.MethodPost, "/api/v1/load", `{"fileName":"bad.bmp"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(r, http.MethodPost, "/api/v1/load", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPathsOutsideTreeForbidden(t *testing.T) {
	chdirTemp(t)
	writeOutlier(t, "a.bmp")
	other := t.TempDir()
	abs := filepath.Join(other, "a.bmp")
	writeOutlier(t, abs)
	r := newTestRouter()

	for _, fn := range []string{abs, "../a.bmp"} {
		w := do(r, http.MethodPost, "/api/v1/load", `{"fileName":`+jsonString(fn)+`}`)
		assert.Equal(t, http.StatusForbidden, w.Code, fn)
	}

	w := do(r, http.MethodPost, "/api/v1/load", `{"fileName":"a.bmp"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/api/v1/filter", `{"windowSize":3}`)
	require.Equal(t, http.StatusOK, w.Code)

	target := filepath.Join(other, "b.bmp")
	w = do(r, http.MethodPost, "/api/v1/saveAs", `{"fileName":`+jsonString(target)+`}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, "a.bmp", decodeState(t, do(r, http.MethodGet, "/api/v1/state", "")).Path)

	// pipeline stats files are sandboxed as well
	csv := filepath.Join(other, "stats.csv")
	require.NoError(t, os.WriteFile(csv, []byte("precious\n"), 0644))
	w = do(r, http.MethodPost, "/api/v1/run", `{"type":"seq","steps":[
		{"type":"load","fileName":"a.bmp"},
		{"type":"stats","fileName":`+jsonString(csv)+`}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "error:")
	data, err := os.ReadFile(csv)
	require.NoError(t, err)
	assert.Equal(t, "precious\n", string(data))
}

func TestUploadAndQuantizer(t *testing.T) {
	r := newTestRouter()
	img, err := bmp.New(4, 2, 8, []bmp.RGB{{}, {R: 255, G: 255, B: 255}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", bytes.NewReader(img.Bytes()))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decodeState(t, w)
	assert.Equal(t, int32(8), st.BitCount)

	w = do(r, http.MethodPost, "/api/v1/quantizer", `{"quantizer":"nearest"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nearest", decodeState(t, w).Quantizer)
	w = do(r, http.MethodPost, "/api/v1/quantizer", `{"quantizer":"dither"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// nowhere to save an upload to
	w = do(r, http.MethodPost, "/api/v1/filter", `{"windowSize":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodPost, "/api/v1/save", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRunPipeline(t *testing.T) {
	dir := chdirTemp(t)
	writeOutlier(t, "a.bmp")
	other := t.TempDir()
	writeOutlier(t, filepath.Join(other, "a.bmp"))

	r := newTestRouter()
	w := do(r, http.MethodPost, "/api/v1/run", `{"type":"seq","steps":[
		{"type":"load","fileName":"a.bmp"},
		{"type":"median","windowSize":3},
		{"type":"save","filePattern":"out%d.bmp"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Processed 1 images.")

	img, err := bmp.NewImageFromFile(filepath.Join(dir, "out0.bmp"), 0)
	require.NoError(t, err)
	assert.Equal(t, bmp.RGB{R: 100, G: 100, B: 100}, img.At(1, 1))

	// absolute paths are refused
	w = do(r, http.MethodPost, "/api/v1/run", `{"type":"load","fileName":`+jsonString(filepath.Join(other, "a.bmp"))+`}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "error:")

	w = do(r, http.MethodPost, "/api/v1/run", `{"type":"sharpen"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
