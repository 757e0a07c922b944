// Package gif provides a pure Go encoder and decoder for GIF images and
// animations.
//
// Decoding composites every frame onto the full canvas, applying the
// disposal methods and transparent colours of the stream, and keeps the
// result indexed while the colours of all frames fit one 256-entry
// palette. Encoding works the other way round: it finds the part of
// each canvas that changed since the previous frame, picks a disposal
// method for it and quantizes it with an octree when the animation is
// not already indexed.
//
// The package supports:
//   - GIF87a and GIF89a decoding, including interlaced images
//   - Global and local colour tables
//   - Transparency and all disposal methods
//   - NETSCAPE2.0 loop counts
//   - Octree, histogram (RGB5A3) and median-cut palette generation
//   - Ordered and error-diffusion dithering
//   - Record-level inspection and remuxing (package mux)
//
// Basic usage for decoding:
//
//	img, err := gif.Decode(reader)
//
// Basic usage for encoding:
//
//	err := gif.Encode(writer, img, gif.DefaultOptions())
package gif
