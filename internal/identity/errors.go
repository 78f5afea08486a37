package identity

import "errors"

var (
	// ErrInvalidInput marks a missing required argument (name, image, id).
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateIdentity marks a registration for an already-enrolled name.
	ErrDuplicateIdentity = errors.New("identity already registered")

	// ErrNoFaceDetected marks an image the detector found no usable face in.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrStoreUnavailable marks a persistence-layer read/write failure.
	// Always wrapped around the underlying cause.
	ErrStoreUnavailable = errors.New("identity store unavailable")
)
