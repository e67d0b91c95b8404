package domain

import "errors"

var (
	// ErrSessionNotFound is returned when neither the snapshot store nor the sink knows a session.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrEmptyQuestionSet indicates the generator returned no questions.
	ErrEmptyQuestionSet = errors.New("question set is empty")
	// ErrInvalidQuestionSet indicates a generated question whose correct option is not among its options.
	ErrInvalidQuestionSet = errors.New("question set has a correct option outside its options")
	// ErrCameraDenied is a fatal capability failure: the user refused camera access.
	ErrCameraDenied = errors.New("camera access denied")
	// ErrCameraUnsupported is a fatal capability failure: no camera is available.
	ErrCameraUnsupported = errors.New("camera not supported")
	// ErrSpeechUnavailable is a recoverable capability failure: read-aloud is disabled.
	ErrSpeechUnavailable = errors.New("speech synthesis unavailable")
	// ErrNoFrame indicates the camera stream has not produced a frame yet.
	ErrNoFrame = errors.New("no camera frame available")
)
