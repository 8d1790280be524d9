package api

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestContextBuffersForm(t *testing.T) {
	a := &API{maxFormBytes: defaultMaxFormBytes}
	r := httptest.NewRequest(http.MethodPost, "http://Staging.Example.com/checkout/", strings.NewReader("secret=s3&csrf_token=t&secret=second"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	r.AddCookie(&http.Cookie{Name: "checkoutgate_auth", Value: "sig|1"})

	rc := a.requestContext(r)
	assert.Equal(t, "staging.example.com", rc.Host)
	assert.Equal(t, "/checkout/", rc.Path)
	assert.Equal(t, map[string]string{"secret": "s3", "csrf_token": "t"}, rc.Form)
	assert.Equal(t, "sig|1", rc.Cookies["checkoutgate_auth"])
	assert.False(t, rc.Async)

	rest, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, "secret=s3&csrf_token=t&secret=second", string(rest), "body must be restored")
}

func TestRequestContextOversizedBody(t *testing.T) {
	a := &API{maxFormBytes: 8}
	body := "secret=longer-than-eight-bytes"
	r := httptest.NewRequest(http.MethodPost, "/checkout/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rc := a.requestContext(r)
	assert.Nil(t, rc.Form)
	rest, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(rest))
}

func TestRequestContextIgnoresOtherBodies(t *testing.T) {
	a := &API{maxFormBytes: defaultMaxFormBytes, ajaxParam: DefaultAjaxParam}
	r := httptest.NewRequest(http.MethodPost, "/checkout/?wc-ajax=checkout", strings.NewReader(`{"secret":"x"}`))
	r.Header.Set("Content-Type", "application/json")

	rc := a.requestContext(r)
	assert.Nil(t, rc.Form)
	assert.True(t, rc.Async)
}

func TestIsAsync(t *testing.T) {
	a := &API{ajaxParam: DefaultAjaxParam}
	tests := []struct {
		target string
		header map[string]string
		want   bool
	}{
		{"/checkout/?wc-ajax=update_order_review", nil, true},
		{"/checkout/?wc-ajax=update_order_review", map[string]string{"Sec-Fetch-Mode": "cors"}, true},
		{"/checkout/", map[string]string{"X-Requested-With": "XMLHttpRequest"}, false},
		{"/checkout/?wc-ajax=", nil, false},
		{"/checkout/?wc-ajax=a&wc-ajax=", nil, false},
		{"/checkout/?wc-ajax=a", map[string]string{"Sec-Fetch-Mode": "navigate"}, false},
		{"/checkout/?other=1", nil, false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, tt.target, nil)
		for k, v := range tt.header {
			r.Header.Set(k, v)
		}
		assert.Equal(t, tt.want, a.isAsync(r), "%s %v", tt.target, tt.header)
	}

	disabled := &API{}
	r := httptest.NewRequest(http.MethodGet, "/checkout/?wc-ajax=a", nil)
	assert.False(t, disabled.isAsync(r))
}

func TestRequestIsSecure(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, requestIsSecure(r))

	r.Header.Set("X-Forwarded-Proto", "HTTPS")
	assert.True(t, requestIsSecure(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Forwarded", "for=192.0.2.60;proto=https;by=203.0.113.43")
	assert.True(t, requestIsSecure(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.TLS = &tls.ConnectionState{}
	assert.True(t, requestIsSecure(r))
}

func TestCookieMapFirstWins(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Add("Cookie", "a=1; a=2; b=3")
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, cookieMap(r))
}
