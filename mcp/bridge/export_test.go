package bridge

import "github.com/effective-security/mcpbridge/mcp/transport/stdio"

// Processes returns the provider processes of the last acquisition.
func (b *Bridge) Processes() []*stdio.Process {
	b.lock.RLock()
	defer b.lock.RUnlock()
	list := make([]*stdio.Process, 0, len(b.providers))
	for _, p := range b.providers {
		list = append(list, p.proc)
	}
	return list
}
