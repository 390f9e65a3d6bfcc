package apperr

import (
	"net/http"
	"testing"
)

func TestHTTPStatusUnavailableKinds(t *testing.T) {
	for _, k := range []Kind{KindNoUpstreamAvailable, KindNoHealthyUpstreamAvailable, KindCircuitBreakerOpen} {
		err := New(k, "test")
		if got := HTTPStatus(err); got != http.StatusServiceUnavailable {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", k, got, http.StatusServiceUnavailable)
		}
	}
}

func TestForwardHTTPStatusUnavailableKindsCollapseTo500(t *testing.T) {
	for _, k := range []Kind{KindNoUpstreamAvailable, KindNoHealthyUpstreamAvailable, KindCircuitBreakerOpen} {
		err := New(k, "test")
		if got := ForwardHTTPStatus(err); got != http.StatusInternalServerError {
			t.Fatalf("ForwardHTTPStatus(%s) = %d, want %d", k, got, http.StatusInternalServerError)
		}
	}
}

func TestForwardHTTPStatusDefersOtherKinds(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:            http.StatusBadRequest,
		KindAuth:                  http.StatusUnauthorized,
		KindNotFound:              http.StatusNotFound,
		KindUpstreamGroupNotFound: http.StatusNotFound,
		KindConflict:              http.StatusConflict,
		KindUpstream:              http.StatusInternalServerError,
	}
	for k, want := range cases {
		err := New(k, "test")
		if got := ForwardHTTPStatus(err); got != want {
			t.Fatalf("ForwardHTTPStatus(%s) = %d, want %d", k, got, want)
		}
		if got := HTTPStatus(err); got != want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", k, got, want)
		}
	}
}

func TestHTTPStatusUnwrappedErrorIsInternal(t *testing.T) {
	if got := HTTPStatus(nil); got != http.StatusInternalServerError {
		t.Fatalf("HTTPStatus(nil) = %d, want %d", got, http.StatusInternalServerError)
	}
}
