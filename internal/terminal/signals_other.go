//go:build !unix

package terminal

// Job control and resize signals do not exist here; focus reports still work.
func (p *Provider) watchSignals() func() { return func() {} }
