package httpx

import (
	"errors"
	"net/http"
)

// ErrorRule maps errors matching Target to a problem status and title.
type ErrorRule struct {
	Target error
	Status int
	Title  string
}

// RespondError writes the first rule matching err as an RFC7807 problem. Unmatched
// errors become a 500 without detail so internals are not leaked.
func RespondError(w http.ResponseWriter, err error, rules []ErrorRule) {
	for _, rule := range rules {
		if errors.Is(err, rule.Target) {
			Problem(w, rule.Status, rule.Title, err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
