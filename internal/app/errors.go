package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func sessionNotOpen(documentID string) *DomainError {
	return domainError(http.StatusConflict, "SESSION_NOT_OPEN", "No editing session is open for this document", map[string]any{"documentId": documentID})
}

func annotationNotFound(annotationID string) *DomainError {
	return domainError(http.StatusNotFound, "ANNOTATION_NOT_FOUND", "Annotation is not placed in the document", map[string]any{"annotationId": annotationID})
}

func highlightThrottled(documentID string) *DomainError {
	return domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many highlight requests, retry shortly", map[string]any{"documentId": documentID})
}
