package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// Middleware puts a localizer into every request context. The language comes
// from the Accept-Language header when it matches a loaded locale, otherwise
// from fallback.
func Middleware(fallback string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := fallback
			if accept := r.Header.Get("Accept-Language"); accept != "" {
				lang = Match(accept, fallback)
			}
			ctx := WithLocalizer(r.Context(), NewLocalizer(lang))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Match picks the loaded locale that best fits an Accept-Language value.
func Match(accept, fallback string) string {
	if bundle == nil {
		return fallback
	}
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	supported := bundle.LanguageTags()
	_, idx, conf := language.NewMatcher(supported).Match(tags...)
	if conf == language.No {
		return fallback
	}
	base, _ := supported[idx].Base()
	return base.String()
}
