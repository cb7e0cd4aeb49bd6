package store

import "github.com/Harshitk-cp/integrity/internal/domain"

var ErrNotFound = domain.ErrNotFound
