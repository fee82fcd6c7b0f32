package postgres

import (
	"fmt"
	"strconv"

	"github.com/ineyio/quotarelay"
)

// Sessions are uint64 and do not fit BIGINT, so they travel as decimal text.

func formatSession(s quotarelay.SessionID) string {
	return strconv.FormatUint(uint64(s), 10)
}

func parseSession(v string) (quotarelay.SessionID, error) {
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt record: last_session=%q: %w", v, err)
	}
	return quotarelay.SessionID(n), nil
}
