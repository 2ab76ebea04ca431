package keys

// Inc treats key as a big-endian unsigned integer
// and returns key + 1. It does not modify key.
func Inc(key []byte) []byte {
	carry := true
	after := make([]byte, len(key))

	copy(after, key)

	for i := len(after) - 1; i >= 0 && carry; i-- {
		if key[i] < 0xff {
			carry = false
		}

		after[i] = key[i] + 1
	}

	// carry will only be true if all elements of k
	// were equal to 0xff. The range should just go
	// all the way to the end of the real key range.
	if carry {
		return nil
	}

	return after
}

// PrefixUpperBound returns the smallest string that is
// greater than every string starting with prefix. It
// increments the last character of prefix, so it is only
// meaningful when that character is below 0xff. An empty
// prefix has no upper bound and yields "".
func PrefixUpperBound(prefix string) string {
	if len(prefix) == 0 {
		return ""
	}

	last := prefix[len(prefix)-1]

	if last == 0xff {
		return string(Inc([]byte(prefix)))
	}

	return prefix[:len(prefix)-1] + string([]byte{last + 1})
}

// After returns the key directly after k such that
// there can exist no other key that comes between
// k and After(k)
func After(k []byte) []byte {
	afterK := make([]byte, len(k)+1)

	copy(afterK, k)
	afterK[len(k)] = 0

	return afterK
}
