// Package monitor takes failing keys out of rotation.
package monitor
