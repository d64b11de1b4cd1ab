package discord

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/whoson/whoson/pkg/faults"
)

// mapError translates discordgo failures into engine faults. 403 means a
// missing capability, 404 a vanished resource, 429 a platform throttle;
// everything else is unexpected.
func mapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var rateLimit *discordgo.RateLimitError
	if errors.As(err, &rateLimit) {
		return faults.RateLimited("discord rate limit", err).WithOperation(operation)
	}

	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusForbidden:
			return faults.PermissionDenied("discord rejected the request", err).WithOperation(operation)
		case http.StatusNotFound:
			return faults.NotFound("discord resource not found", err).WithOperation(operation)
		case http.StatusTooManyRequests:
			return faults.RateLimited("discord rate limit", err).WithOperation(operation)
		}
	}

	return faults.Unexpected("discord request failed", err).WithOperation(operation)
}
