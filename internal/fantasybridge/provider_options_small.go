//go:build lectern_small

package fantasybridge

import (
	"charm.land/fantasy"
	fopenaicompat "charm.land/fantasy/providers/openaicompat"

	"github.com/dotcommander/lectern/internal/proto"
)

func applyProviderOptions(call *fantasy.Call, _ string, _ Config, req proto.Request) {
	if req.User == "" {
		return
	}
	user := req.User
	call.ProviderOptions[fopenaicompat.Name] = &fopenaicompat.ProviderOptions{User: &user}
}
