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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/mlnoga/bmpmedian/internal/bmp"
	"github.com/mlnoga/bmpmedian/internal/ops"
	"github.com/mlnoga/bmpmedian/internal/session"
	"github.com/mlnoga/bmpmedian/web"
)

// Upper bound for uploaded bitmaps and pipelines
const maxBodyBytes = 256 << 20

type server struct {
	sess *session.Session
	ctx  *ops.Context
}

// Creates the router for the session service. Sandboxes the context, so clients
// can only name files inside the working tree.
func NewRouter(sess *session.Session, ctx *ops.Context) *gin.Engine {
	ctx.Sandboxed = true
	s := &server{sess: sess, ctx: ctx}
	r := gin.Default()
	r.GET("/", getIndex)
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/state", s.getState)
			v1.POST("/load", s.postLoad)
			v1.POST("/upload", s.postUpload)
			v1.POST("/filter", s.postFilter)
			v1.POST("/adaptive", s.postAdaptive)
			v1.POST("/save", s.postSave)
			v1.POST("/saveAs", s.postSaveAs)
			v1.POST("/restore", s.postRestore)
			v1.POST("/quantizer", s.postQuantizer)
			v1.GET("/image.png", s.getImage("png"))
			v1.GET("/image.jpg", s.getImage("jpeg"))
			v1.GET("/image.bmp", s.getBitmap)
			v1.POST("/run", s.postRun)
		}
	}
	return r
}

// Serves the session service on the given address, e.g. ":8080"
func Serve(addr string, sess *session.Session, ctx *ops.Context) error {
	return NewRouter(sess, ctx).Run(addr)
}

func getIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", web.IndexHTML)
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// Maps an error to a HTTP status and a JSON error message
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var fe *bmp.FormatError
	var ioe *bmp.IOError
	switch {
	case errors.Is(err, session.ErrNotLoaded):
		status = http.StatusConflict
	case errors.Is(err, ops.ErrOutsideTree):
		status = http.StatusForbidden
	case errors.As(err, &fe):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &ioe) && errors.Is(err, os.ErrNotExist):
		status = http.StatusNotFound
	case errors.As(err, &ioe):
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, s.sess.State())
}

type fileArgs struct {
	FileName string `json:"fileName" binding:"required"`
}

func (s *server) postLoad(c *gin.Context) {
	var args fileArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, err)
		return
	}
	st, err := s.sess.Load(args.FileName)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *server) postUpload(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		badRequest(c, err)
		return
	}
	st, err := s.sess.LoadBytes(data)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type filterArgs struct {
	WindowSize int32 `json:"windowSize" binding:"required"`
}

func (s *server) postFilter(c *gin.Context) {
	var args filterArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.sess.Filter(args.WindowSize); err != nil {
		if errors.Is(err, session.ErrNotLoaded) {
			abortWithError(c, err)
		} else {
			badRequest(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, s.sess.State())
}

func (s *server) postAdaptive(c *gin.Context) {
	stats, err := s.sess.Adaptive()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":     s.sess.State(),
		"kept":      stats.Kept,
		"replaced":  stats.Replaced,
		"exhausted": stats.Exhausted,
	})
}

func (s *server) postSave(c *gin.Context) {
	if err := s.sess.Save(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sess.State())
}

func (s *server) postSaveAs(c *gin.Context) {
	var args fileArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.sess.SaveAs(args.FileName); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sess.State())
}

func (s *server) postRestore(c *gin.Context) {
	if err := s.sess.Restore(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sess.State())
}

type quantizerArgs struct {
	Quantizer string `json:"quantizer"`
}

func (s *server) postQuantizer(c *gin.Context) {
	var args quantizerArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, err)
		return
	}
	q, err := bmp.ParseQuantizer(args.Quantizer)
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := s.sess.SetQuantizer(q); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.sess.State())
}

func (s *server) getImage(format string) gin.HandlerFunc {
	contentType := "image/" + format
	return func(c *gin.Context) {
		if !s.sess.IsLoaded() {
			abortWithError(c, session.ErrNotLoaded)
			return
		}
		c.Header("Content-Type", contentType)
		c.Header("Cache-Control", "no-store")
		c.Status(http.StatusOK)
		if err := s.sess.WritePreview(c.Writer, format); err != nil {
			fmt.Fprintf(s.ctx.Log, "Error writing %s preview: %s\n", format, err.Error())
		}
	}
}

func (s *server) getBitmap(c *gin.Context) {
	if !s.sess.IsLoaded() {
		abortWithError(c, session.ErrNotLoaded)
		return
	}
	c.Header("Content-Type", "image/bmp")
	c.Status(http.StatusOK)
	if err := s.sess.WriteBitmap(c.Writer); err != nil {
		fmt.Fprintf(s.ctx.Log, "Error writing bitmap: %s\n", err.Error())
	}
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Runs a JSON operator pipeline on files in the working tree, streaming the log
// output as plain text. Independent of the session image.
func (s *server) postRun(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		badRequest(c, err)
		return
	}
	op, err := ops.UnmarshalOperator(raw)
	if err != nil {
		badRequest(c, err)
		return
	}

	logWriter := c.Writer
	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", op); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	runCtx := *s.ctx
	runCtx.Log = ops.NewSyncWriter(logWriter)
	outs, err := ops.Run(op, &runCtx)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	} else {
		fmt.Fprintf(logWriter, "Processed %d images.\n", len(outs))
	}
	logWriter.Flush()
}
