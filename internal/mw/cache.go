package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// cachedPage is a rendered response held for replay.
type cachedPage struct {
	status int
	header http.Header
	body   []byte
}

// captureWriter tees the response body so it can be cached once the
// handler has run.
type captureWriter struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (w captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Cache replays successful GET responses from an in-memory store for
// the given TTL. The key is the full request URI, so query variants
// cache independently. Non-GET requests and non-2xx responses pass
// through uncached.
func Cache(pages *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.RequestURI
		if hit, ok := pages.Get(key); ok {
			page := hit.(cachedPage)
			for k, v := range page.header {
				c.Writer.Header()[k] = v
			}
			c.Writer.WriteHeader(page.status)
			c.Writer.Write(page.body)
			c.Abort()
			return
		}

		cw := &captureWriter{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = cw

		c.Next()

		if status := cw.Status(); status >= 200 && status < 300 {
			pages.Set(key, cachedPage{
				status: status,
				header: cw.Header().Clone(),
				body:   cw.buf.Bytes(),
			}, ttl)
		}
	}
}
