// Package host defines what subxact needs from a database engine.
//
// An Engine opens and resolves nested transaction levels, executes commands
// and installs failure boundaries. It reports failures in two ways:
//
//   - a returned error is a local rejection (*CommandError): the request never
//     reached the engine and nothing needs cleaning up;
//   - a raised failure is a panic carrying *Failure. It unwinds past ordinary
//     control flow, the way an engine-level error would, and is only stopped by
//     a boundary installed with Protect.
//
// Each nesting level owns a pair of tokens (an allocation context and a
// resource owner). BeginNested hands back the pair that was active before the
// new level; resolving the level must restore exactly that pair.
package host
