// Package cookie serializes and parses the session and evidence key cookies.
//
// The wire format matches what a Node/express tier produces and consumes:
// values are percent-encoded like encodeURIComponent, structured values are
// tagged with a "j:" prefix, and MaxAge yields both Max-Age (seconds) and an
// absolute Expires attribute. Signing is not performed here.
package cookie
