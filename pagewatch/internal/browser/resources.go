package browser

import (
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockable maps the config names of resource_blocking to CDP resource
// types. Images are absent: a render tab exists to measure them.
var blockable = map[string]proto.NetworkResourceType{
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
	"xhr":         proto.NetworkResourceTypeXHR,
	"fetch":       proto.NetworkResourceTypeFetch,
	"websocket":   proto.NetworkResourceTypeWebSocket,
	"manifest":    proto.NetworkResourceTypeManifest,
	"ping":        proto.NetworkResourceTypePing,
}

// blockSet resolves config names. Unknown names and "images" are returned
// as ignored.
func blockSet(names []string) (set map[proto.NetworkResourceType]bool, ignored []string) {
	set = make(map[proto.NetworkResourceType]bool, len(names))
	for _, n := range names {
		if t, ok := blockable[strings.ToLower(strings.TrimSpace(n))]; ok {
			set[t] = true
			continue
		}
		ignored = append(ignored, n)
	}
	return set, ignored
}

// applyResourceBlocking intercepts the render tab's requests and fails the
// blocked types. It returns nil when nothing is blockable; otherwise the
// router must be stopped with the tab.
func applyResourceBlocking(page *rod.Page, names []string, logger *slog.Logger) *rod.HijackRouter {
	set, ignored := blockSet(names)
	if len(ignored) > 0 {
		logger.Warn("browser: resource types not blocked", "types", ignored)
	}
	if len(set) == 0 {
		return nil
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if set[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
