// Package repositories holds the storage errors shared by every backend.
package repositories

import "errors"

var (
	ErrWalletNotFound  = errors.New("wallet not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrCacheMiss       = errors.New("balance not found in cache")
)
