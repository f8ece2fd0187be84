package tracer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lectern/internal/config"
)

func TestSetup(t *testing.T) {
	for name, tc := range map[string]struct {
		cfg     config.TraceConfig
		wantErr bool
	}{
		"disabled":         {cfg: config.TraceConfig{}},
		"enabled noop":     {cfg: config.TraceConfig{Enabled: true, Exporter: "noop"}},
		"enabled stderr":   {cfg: config.TraceConfig{Enabled: true, Exporter: "stderr"}},
		"unknown exporter": {cfg: config.TraceConfig{Enabled: true, Exporter: "zipkin"}, wantErr: true},
	} {
		t.Run(name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), tc.cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, shutdown(context.Background()))
		})
	}
}

func TestSpanHelpers(t *testing.T) {
	_, err := Setup(context.Background(), config.TraceConfig{})
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "test", StringAttr("k", "v"), IntAttr("n", 1), BoolAttr("b", true))
	require.NotNil(t, ctx)
	RecordError(span, errors.New("boom"))
	SetOK(span)
	span.End()
}
