// Package logx is jobtrack's logging layer, a thin wrapper over zerolog.
//
// A Logger obtained from a Service follows the Service across Apply calls,
// so components keep their logger while sinks and level change on config
// reload. Console output is human readable (colour only on a terminal);
// the optional log file always receives JSON lines and is size-rotated.
package logx
