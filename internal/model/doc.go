// Package model defines the typed payloads carried by feed messages.
package model
