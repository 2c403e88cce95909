package health

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeCred struct {
	name string
	err  error
}

func (f fakeCred) Service() string                 { return f.name }
func (f fakeCred) Ready(ctx context.Context) error { return f.err }

func TestCheckAllOK(t *testing.T) {
	st := CheckAll(context.Background(), TokenProbe(fakeCred{name: "stt"}), TokenProbe(fakeCred{name: "tts"}))
	if !st.OK || len(st.Checks) != 2 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Checks[0].Name != "stt_iam" || st.Checks[1].Name != "tts_iam" {
		t.Fatalf("unexpected check names %+v", st.Checks)
	}
}

func TestCheckAllReportsFailure(t *testing.T) {
	st := CheckAll(context.Background(),
		TokenProbe(fakeCred{name: "assistant"}),
		Probe{Name: "polly", Check: func(context.Context) error { return errors.New("no credentials") }},
	)
	if st.OK {
		t.Fatalf("expected failure")
	}
	if st.Checks[1].OK || st.Checks[1].Error != "no credentials" {
		t.Fatalf("unexpected polly result %+v", st.Checks[1])
	}
	out := st.String()
	if !strings.Contains(out, "Health: FAIL") || !strings.Contains(out, "✗ polly") {
		t.Fatalf("unexpected report:\n%s", out)
	}
}

func TestProbeGetsDeadline(t *testing.T) {
	var had bool
	CheckAll(context.Background(), Probe{Name: "x", Check: func(ctx context.Context) error {
		_, had = ctx.Deadline()
		return nil
	}})
	if !had {
		t.Fatalf("probe context has no deadline")
	}
}
