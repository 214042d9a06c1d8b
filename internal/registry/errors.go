package registry

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrDesignNotFound   = errors.New("design not found")
	ErrExpired          = errors.New("expired")
	ErrAlreadyUsed      = errors.New("already used")
	ErrOTCConflict      = errors.New("otc already bound to a different value")
	ErrOTCAlreadyBound  = errors.New("otc already bound to a different ntag")
	ErrCardNotEnabled   = errors.New("card is not enabled")
	ErrHolderNotBound   = errors.New("card has no holder")
	ErrUnknownMerchants = errors.New("all merchants unknown")
)
