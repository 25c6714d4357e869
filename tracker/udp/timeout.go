package udp

import (
	"time"
)

const maxTimeout = 3840 * time.Second

// BEP 15: 15 * 2 ^ n seconds, n capped at 8.
func timeout(contiguousTimeouts int) (d time.Duration) {
	if contiguousTimeouts > 8 {
		contiguousTimeouts = 8
	}
	d = 15 * time.Second
	for ; contiguousTimeouts > 0; contiguousTimeouts-- {
		d *= 2
	}
	return
}
