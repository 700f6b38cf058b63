// Package units holds byte size constants for store map sizes and limits.
package units

const (
	Kilobyte = 1000
	Kb       = Kilobyte
	Megabyte = Kilobyte * Kilobyte
	Mb       = Megabyte
	Gigabyte = Megabyte * Kilobyte
	Gb       = Gigabyte

	Kibibyte = 1 << 10
	KiB      = Kibibyte
	Mebibyte = 1 << 20
	MiB      = Mebibyte
	Gibibyte = 1 << 30
	GiB      = Gibibyte
)
