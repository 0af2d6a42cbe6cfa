// Package chatui renders chat messages without tying callers to one
// platform: a Style picks HTML, Markdown or plain text, and buttons are
// transport.Button rows whose data follows "plugin:action:payload".
package chatui
