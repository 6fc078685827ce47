// ABOUTME: Sentinel errors for connector discovery, manifest loading, and tool routing.
// ABOUTME: Callers classify failures with errors.Is against these values.

package connector

import "errors"

var (
	// ErrManifestMissing indicates a connector has no manifest document.
	ErrManifestMissing = errors.New("manifest missing")

	// ErrManifestInvalid indicates a manifest exists but is not well-formed.
	ErrManifestInvalid = errors.New("manifest invalid")

	// ErrUnitNotFound indicates no constructor is registered under the connector name.
	ErrUnitNotFound = errors.New("connector not found")

	// ErrUnitContractMissing indicates a constructor produced nothing usable for its name.
	ErrUnitContractMissing = errors.New("connector contract missing")

	// ErrToolNotFound indicates the tool name resolved to no loaded connector.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidUnitName indicates a connector name is empty or contains a dot.
	ErrInvalidUnitName = errors.New("invalid connector name")

	// ErrFactoryExists indicates a constructor is already registered under the name.
	ErrFactoryExists = errors.New("connector factory already registered")
)
