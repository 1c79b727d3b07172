package testing

// UserPairs pairs the first provided user with each of the others
// e.g. [a, b, c] -> [[a,b], [a,c]]
func UserPairs(users []string) [][2]string {
	if len(users) < 2 {
		return nil
	}
	pairs := make([][2]string, 0, len(users)-1)
	for i := 1; i < len(users); i++ {
		pairs = append(pairs, [2]string{users[0], users[i]})
	}

	return pairs
}
