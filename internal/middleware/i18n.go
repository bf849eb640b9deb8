package middleware

import (
	"context"
	"net/http"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

// LocaleKey stores the negotiated language.Tag in the request context.
var LocaleKey = localeContextKey{}

// DefaultLocales are the label languages the API negotiates between. The
// first entry is the fallback.
var DefaultLocales = []language.Tag{
	language.English,
	language.Indonesian,
	language.German,
	language.French,
	language.Japanese,
}

// Locale negotiates a language from X-Locale, then Accept-Language, against
// supported. Unknown or missing preferences fall back to supported[0].
func Locale(supported []language.Tag) func(http.Handler) http.Handler {
	if len(supported) == 0 {
		supported = DefaultLocales
	}
	matcher := language.NewMatcher(supported)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tag := detectLocale(r, matcher, supported)
			w.Header().Set("Content-Language", tag.String())
			ctx := context.WithValue(r.Context(), LocaleKey, tag)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, matcher language.Matcher, supported []language.Tag) language.Tag {
	_, idx := language.MatchStrings(matcher, r.Header.Get("X-Locale"), r.Header.Get("Accept-Language"))
	if idx < 0 || idx >= len(supported) {
		return supported[0]
	}
	return supported[idx]
}

// LocaleFromContext returns the negotiated language, English when unset.
func LocaleFromContext(ctx context.Context) language.Tag {
	if v, ok := ctx.Value(LocaleKey).(language.Tag); ok {
		return v
	}
	return language.English
}
