package middleware

import (
	"regexp"

	"github.com/valyala/fasthttp"
)

type CORSMiddleware struct {
	allowedOrigins []string
	localhostRegex *regexp.Regexp
}

func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &CORSMiddleware{
		allowedOrigins: allowedOrigins,
		localhostRegex: regexp.MustCompile(`^https?://localhost:\d+$`),
	}
}

func (cm *CORSMiddleware) Handle(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		origin := string(ctx.Request.Header.Peek("Origin"))

		if cm.IsOriginAllowed(origin) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
			ctx.Response.Header.Add("Vary", "Origin")
		} else if cm.allowsAny() {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
		}

		ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		ctx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type, Content-Disposition")
		ctx.Response.Header.Set("Access-Control-Expose-Headers", "Content-Type, Content-Disposition")
		ctx.Response.Header.Set("Access-Control-Max-Age", "86400")

		if ctx.IsOptions() {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		next(ctx)
	}
}

// IsOriginAllowed matches exact origins and the localhost:* wildcard. With no
// configured origins only localhost is echoed back.
func (cm *CORSMiddleware) IsOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range cm.allowedOrigins {
		if allowed == origin {
			return true
		}
		if allowed == "http://localhost:*" || allowed == "https://localhost:*" {
			if cm.localhostRegex.MatchString(origin) {
				return true
			}
		}
	}
	if cm.allowsAny() {
		return cm.localhostRegex.MatchString(origin)
	}
	return false
}

func (cm *CORSMiddleware) allowsAny() bool {
	return len(cm.allowedOrigins) == 1 && cm.allowedOrigins[0] == "*"
}
