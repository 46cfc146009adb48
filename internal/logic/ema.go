package logic

// emaFilter is a fixed-point exponential moving average with weight 1/2^shift.
type emaFilter struct {
	shift       uint
	value       int64 // scaled by 2^shift
	initialised bool
}

func newEMAFilter(shift uint) emaFilter {
	return emaFilter{shift: shift}
}

// update folds raw into the average and returns it in the input scale.
func (f *emaFilter) update(raw int) int {
	scaled := int64(raw) << f.shift
	if !f.initialised {
		f.value = scaled
		f.initialised = true
	} else {
		f.value += (scaled - f.value) >> f.shift
	}
	return int(f.value >> f.shift)
}

func (f *emaFilter) reset() {
	f.value = 0
	f.initialised = false
}

// smooth8 applies the 1/8 calibration average; a zero average takes the sample as seed.
func smooth8(avg, sample uint16) uint16 {
	if avg == 0 {
		return sample
	}
	return (avg*7 + sample) / 8
}
