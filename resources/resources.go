// Package resources parses and formats the CPU and RAM quantity strings
// exchanged with the orchestrator, converting them to the starter's
// accounting base units: millicpu for CPU, MiB for RAM.
//
// Units are represented as closed tagged variants rather than a table keyed
// by a possibly-nil suffix string, so an invalid unit is a compile-time
// impossibility once parsed.
package resources

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// CPUUnit is one of the suffixes recognized in a CPU quantity string.
type CPUUnit int

const (
	CPUUnitNone CPUUnit = iota
	CPUUnitMilli
	CPUUnitNano
)

// cpuUnitScale reports the unit's value in whole CPUs.
func cpuUnitScale(u CPUUnit) float64 {
	switch u {
	case CPUUnitNone:
		return 1
	case CPUUnitMilli:
		return 1e-3
	case CPUUnitNano:
		return 1e-9
	default:
		panic(fmt.Sprintf("unhandled CPUUnit %d", u))
	}
}

func (u CPUUnit) String() string {
	switch u {
	case CPUUnitNone:
		return ""
	case CPUUnitMilli:
		return "m"
	case CPUUnitNano:
		return "n"
	default:
		panic(fmt.Sprintf("unhandled CPUUnit %d", u))
	}
}

// RAMUnit is one of the suffixes recognized in a RAM quantity string.
type RAMUnit int

const (
	RAMUnitNone RAMUnit = iota
	RAMUnitK
	RAMUnitM
	RAMUnitG
	RAMUnitT
	RAMUnitP
	RAMUnitE
	RAMUnitKi
	RAMUnitMi
	RAMUnitGi
	RAMUnitTi
	RAMUnitPi
	RAMUnitEi
)

func ramUnitScale(u RAMUnit) float64 {
	switch u {
	case RAMUnitNone:
		return 1
	case RAMUnitK:
		return 1e3
	case RAMUnitM:
		return 1e6
	case RAMUnitG:
		return 1e9
	case RAMUnitT:
		return 1e12
	case RAMUnitP:
		return 1e15
	case RAMUnitE:
		return 1e18
	case RAMUnitKi:
		return math.Pow(2, 10)
	case RAMUnitMi:
		return math.Pow(2, 20)
	case RAMUnitGi:
		return math.Pow(2, 30)
	case RAMUnitTi:
		return math.Pow(2, 40)
	case RAMUnitPi:
		return math.Pow(2, 50)
	case RAMUnitEi:
		return math.Pow(2, 60)
	default:
		panic(fmt.Sprintf("unhandled RAMUnit %d", u))
	}
}

func (u RAMUnit) String() string {
	switch u {
	case RAMUnitNone:
		return ""
	case RAMUnitK:
		return "K"
	case RAMUnitM:
		return "M"
	case RAMUnitG:
		return "G"
	case RAMUnitT:
		return "T"
	case RAMUnitP:
		return "P"
	case RAMUnitE:
		return "E"
	case RAMUnitKi:
		return "Ki"
	case RAMUnitMi:
		return "Mi"
	case RAMUnitGi:
		return "Gi"
	case RAMUnitTi:
		return "Ti"
	case RAMUnitPi:
		return "Pi"
	case RAMUnitEi:
		return "Ei"
	default:
		panic(fmt.Sprintf("unhandled RAMUnit %d", u))
	}
}

var (
	cpuRegex = regexp.MustCompile(`^(\d+|\d+\.\d+)([mn])?$`)
	ramRegex = regexp.MustCompile(`^(\d+|\d+\.\d+)(Ki|Mi|Gi|Ti|Pi|Ei|K|M|G|T|P|E)?$`)
)

func cpuUnitFromSuffix(suffix string) (CPUUnit, error) {
	switch suffix {
	case "":
		return CPUUnitNone, nil
	case "m":
		return CPUUnitMilli, nil
	case "n":
		return CPUUnitNano, nil
	default:
		return 0, fmt.Errorf("invalid CPU unit: %q", suffix)
	}
}

func ramUnitFromSuffix(suffix string) (RAMUnit, error) {
	switch suffix {
	case "":
		return RAMUnitNone, nil
	case "K":
		return RAMUnitK, nil
	case "M":
		return RAMUnitM, nil
	case "G":
		return RAMUnitG, nil
	case "T":
		return RAMUnitT, nil
	case "P":
		return RAMUnitP, nil
	case "E":
		return RAMUnitE, nil
	case "Ki":
		return RAMUnitKi, nil
	case "Mi":
		return RAMUnitMi, nil
	case "Gi":
		return RAMUnitGi, nil
	case "Ti":
		return RAMUnitTi, nil
	case "Pi":
		return RAMUnitPi, nil
	case "Ei":
		return RAMUnitEi, nil
	default:
		return 0, fmt.Errorf("invalid RAM unit: %q", suffix)
	}
}

// ParseCPU parses a CPU quantity string (e.g. "500m", "2", "1500n") and
// converts it to the given destination unit, truncated to an integer.
func ParseCPU(value string, dst CPUUnit) (int64, error) {
	m := cpuRegex.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("invalid resource: %q", value)
	}
	srcUnit, err := cpuUnitFromSuffix(m[2])
	if err != nil {
		return 0, err
	}
	return convert(m[1], cpuUnitScale(srcUnit), cpuUnitScale(dst))
}

// FormatCPU renders an integer quantity expressed in srcUnits as a string in
// dstUnits.
func FormatCPU(value int64, src, dst CPUUnit) (string, error) {
	out, err := convert(strconv.FormatInt(value, 10), cpuUnitScale(src), cpuUnitScale(dst))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d%s", out, dst), nil
}

// ParseRAM parses a RAM quantity string (e.g. "512Mi", "1G") and converts it
// to the given destination unit, truncated to an integer.
func ParseRAM(value string, dst RAMUnit) (int64, error) {
	m := ramRegex.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("invalid resource: %q", value)
	}
	srcUnit, err := ramUnitFromSuffix(m[2])
	if err != nil {
		return 0, err
	}
	return convert(m[1], ramUnitScale(srcUnit), ramUnitScale(dst))
}

// FormatRAM renders an integer quantity expressed in srcUnits as a string in
// dstUnits.
func FormatRAM(value int64, src, dst RAMUnit) (string, error) {
	out, err := convert(strconv.FormatInt(value, 10), ramUnitScale(src), ramUnitScale(dst))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d%s", out, dst), nil
}

// convert applies round(value*srcUnit/dstUnit, 6) and truncates to an
// integer, matching the reference implementation's conversion exactly.
func convert(value string, srcUnit, dstUnit float64) (int64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value: %q", value)
	}
	if srcUnit == dstUnit {
		return int64(f), nil
	}
	scaled := f * srcUnit / dstUnit
	rounded := math.Round(scaled*1e6) / 1e6
	return int64(rounded), nil
}
