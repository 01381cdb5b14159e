package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/danmuck/nxwire/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	}
	for header, want := range cases {
		got, ok := BearerToken(header)
		if got != want || ok != (want != "") {
			t.Fatalf("header %q: got %q ok=%v", header, got, ok)
		}
	}
}

func TestRequire(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/guarded", Require(StaticToken{Token: "s3cret"}), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.POST("/open", Require(nil), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	do := func(path, header string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := do("/guarded", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := do("/guarded", "Bearer wrong"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", code)
	}
	if code := do("/guarded", "Bearer s3cret"); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	if code := do("/open", ""); code != http.StatusOK {
		t.Fatalf("expected nil validator to allow, got %d", code)
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected ok token accepted, got %v", err)
	}
	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
