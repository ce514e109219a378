// Package logx configures remindbot's structured logging.
//
// Logger is a small value-type wrapper over zerolog:
//   - Console output stays readable (short timestamp + file:line caller)
//   - File output is JSON, one event per line
//   - An optional chat sink forwards warn+ events to an operator chat,
//     rate limited and never blocking the caller
package logx
