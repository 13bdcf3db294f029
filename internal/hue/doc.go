// Package hue is a small client for the Hue bridge v1 REST API, limited to
// what color relaying needs: probing the bridge, reading light attributes
// and writing light state.
package hue
