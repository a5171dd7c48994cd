package domain

import "errors"

// ErrModelUnavailable marks embedding or LLM backend failures that are worth
// retrying for a bounded number of attempts before giving up on the article.
var ErrModelUnavailable = errors.New("model backend unavailable")

// ErrConfigurationEmpty means no technologies are configured, so there is
// nothing to filter against. Fatal for a pipeline run.
var ErrConfigurationEmpty = errors.New("no technologies configured")

// ErrParseFailure means the LLM reply did not contain a recognizable verdict.
// The analyzer degrades to a LOW verdict carrying the raw reply instead of
// dropping the article.
var ErrParseFailure = errors.New("unparseable model response")
