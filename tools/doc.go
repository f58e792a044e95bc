// Package tools defines how tool groups are registered with the MCP capability server.
// Each sub-package provides a group of tools exposed to the model.
package tools
