package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
)

// HandleNotFound turns sql.ErrNoRows into (nil, nil) so Find* callers can
// treat an absent integration or state row as a normal outcome.
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// jsonOrEmpty stores an absent payload as an empty object.
func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return []byte(raw)
}
