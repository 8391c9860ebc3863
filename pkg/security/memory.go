package security

// ZeroBytes overwrites data with zeros. Use it on scratch copies of secrets
// once they are no longer needed.
func ZeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
