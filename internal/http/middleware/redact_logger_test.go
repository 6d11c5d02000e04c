package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

const sampleBotToken = "123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsawq"

func TestRedact(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"plain", "plain"},
		{"url=/bot" + sampleBotToken + "/sendMessage", "url=/[REDACTED:token]/sendMessage"},
		{"token=abc&page=2", "token=[REDACTED]&page=2"},
		{"API_KEY=zzz", "API_KEY=[REDACTED]"},
		{"who=ops@example.com", "who=[REDACTED:email]"},
	}
	for _, tc := range cases {
		if got := redact(tc.in); got != tc.want {
			t.Fatalf("redact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedactingLogger_InfoAndRedactions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/api/v1/subscriptions/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/9?token=s3cret&who=a@b.io", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	req.Header.Set("X-Access-Token", "travelpayouts")
	req.Header.Set("X-Api-Key", "k")
	req.Header.Set("X-Debug", "bot"+sampleBotToken)
	req.Header.Set(requestIDHeader, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := buf.String()
	for _, leak := range []string{"topsecret", "travelpayouts", "s3cret", "a@b.io", sampleBotToken} {
		if strings.Contains(out, leak) {
			t.Fatalf("log leaked %q:\n%s", leak, out)
		}
	}
	for _, want := range []string{
		`"level":"info"`,
		`"path":"/api/v1/subscriptions/:id"`,
		`"request_id":"rid-1"`,
		`"message":"http_request"`,
		`"status":200`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in log:\n%s", want, out)
		}
	}
}

func TestRedactingLogger_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	r.GET("/err", func(c *gin.Context) {
		_ = c.Error(errors.New("upstream said token=abc"))
		c.Status(http.StatusOK)
	})

	for _, p := range []string{"/bad", "/boom", "/err", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	out := buf.String()
	if strings.Count(out, `"level":"warn"`) != 2 { // /bad and the 404
		t.Fatalf("expected two warn lines:\n%s", out)
	}
	if strings.Count(out, `"level":"error"`) != 2 {
		t.Fatalf("expected two error lines:\n%s", out)
	}
	if strings.Contains(out, "token=abc") {
		t.Fatalf("gin errors must be redacted:\n%s", out)
	}
	if !strings.Contains(out, `"path":"/missing"`) {
		t.Fatalf("unmatched route should log raw path:\n%s", out)
	}
}
