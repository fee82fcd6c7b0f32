package identity

import "fmt"

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var bech32Generator = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

// encodeBech32 encodes 8-bit data under the human-readable prefix hrp.
func encodeBech32(hrp string, data []byte) (string, error) {
	groups, err := regroup(data, 8, 5, true)
	if err != nil {
		return "", err
	}

	sum := bech32Checksum(hrp, groups)
	out := make([]byte, 0, len(hrp)+1+len(groups)+len(sum))
	out = append(out, hrp...)
	out = append(out, '1')
	for _, g := range append(groups, sum...) {
		out = append(out, bech32Charset[g])
	}
	return string(out), nil
}

func bech32Checksum(hrp string, groups []byte) []byte {
	values := make([]byte, 0, 2*len(hrp)+1+len(groups)+6)
	for i := 0; i < len(hrp); i++ {
		values = append(values, hrp[i]>>5)
	}
	values = append(values, 0)
	for i := 0; i < len(hrp); i++ {
		values = append(values, hrp[i]&31)
	}
	values = append(values, groups...)
	values = append(values, 0, 0, 0, 0, 0, 0)

	mod := bech32Polymod(values) ^ 1
	sum := make([]byte, 6)
	for i := range sum {
		sum[i] = byte(mod>>(5*(5-i))) & 31
	}
	return sum
}

func bech32Polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i, g := range bech32Generator {
			if (top>>i)&1 == 1 {
				chk ^= g
			}
		}
	}
	return chk
}

// regroup converts data between bit widths.
func regroup(data []byte, from, to uint, pad bool) ([]byte, error) {
	var acc uint32
	var bits uint
	maxv := uint32(1)<<to - 1
	out := make([]byte, 0, len(data)*int(from)/int(to)+1)

	for _, b := range data {
		if uint32(b)>>from != 0 {
			return nil, fmt.Errorf("identity: bech32: invalid data byte %d", b)
		}
		acc = acc<<from | uint32(b)
		bits += from
		for bits >= to {
			bits -= to
			out = append(out, byte(acc>>bits&maxv))
		}
	}

	switch {
	case pad && bits > 0:
		out = append(out, byte(acc<<(to-bits)&maxv))
	case !pad && bits >= from:
		return nil, fmt.Errorf("identity: bech32: excess padding")
	case !pad && acc<<(to-bits)&maxv != 0:
		return nil, fmt.Errorf("identity: bech32: non-zero padding")
	}
	return out, nil
}
