// Package logx configures respawnbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional chat sink (min-level + rate limiting) that forwards
//     warnings to an operator chat through the active transport adapter
package logx
