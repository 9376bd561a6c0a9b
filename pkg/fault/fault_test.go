package fault

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRetryClass(t *testing.T) {
	tests := []struct {
		kind Kind
		want Retry
	}{
		{KindToolCallTimeout, RetryTryAgain},
		{KindCircuitOpen, RetryTryAgain},
		{KindMisconfiguredRoute, RetryDoNotRetry},
		{KindUnknownOrExpiredRequest, RetryDoNotRetry},
		{KindProtocolError, RetryDoNotRetry},
		{KindClassificationUnavailable, RetryUpstreamDegraded},
		{KindHandlerError, RetryUpstreamDegraded},
	}
	for _, tt := range tests {
		if got := RetryClass(tt.kind); got != tt.want {
			t.Errorf("RetryClass(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := Wrap(KindToolCallTimeout, ErrUnknownOrExpiredRequest, "suspension expired").WithRequest("req-1")
	err := fmt.Errorf("resume: %w", base)

	if got := KindOf(err); got != KindToolCallTimeout {
		t.Fatalf("expected %s, got %s", KindToolCallTimeout, got)
	}
	if !errors.Is(err, ErrUnknownOrExpiredRequest) {
		t.Fatalf("expected error to match ErrUnknownOrExpiredRequest")
	}
	if !strings.Contains(err.Error(), "request=req-1") {
		t.Fatalf("expected request id in message, got %q", err.Error())
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("expected plain errors to classify as internal")
	}
	if KindOf(nil) != "" {
		t.Fatalf("expected empty kind for nil error")
	}
}

func TestWithRouteKeepsExisting(t *testing.T) {
	e := New(KindHandlerError, "boom").WithRoute("order_query").WithRoute("chitchat")
	if e.Route != "order_query" {
		t.Fatalf("expected first route to stick, got %s", e.Route)
	}
}

func TestIsRouteFailure(t *testing.T) {
	if !IsRouteFailure(KindHandlerError) {
		t.Fatalf("handler errors must count against the breaker")
	}
	if IsRouteFailure(KindProtocolError) || IsRouteFailure(KindToolCallTimeout) {
		t.Fatalf("caller-side failures must not count against the breaker")
	}
}
