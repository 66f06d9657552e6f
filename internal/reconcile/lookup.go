package reconcile

// Provider service codes -> additional_features term ids. Codes 44 and 46
// appear twice; folding keeps the later entry.
var featureTermPairs = [...][2]int{
	{4, 1789},
	{15, 1790},
	{27, 1791},
	{11, 1792},
	{1, 1793},
	{28, 1794},
	{47, 1795},
	{46, 1796},
	{18, 1797},
	{20, 1798},
	{31, 1799},
	{26, 1800},
	{19, 1801},
	{116, 1802},
	{23, 1803},
	{24, 1804},
	{17, 1805},
	{14, 1806},
	{44, 1807},
	{74, 1808},
	{29, 1809},
	{3, 1810},
	{6, 1811},
	{112, 1812},
	{5, 1813},
	{34, 1814},
	{7, 1815},
	{16, 1816},
	{12, 1817},
	{37, 1818},
	{45, 1819},
	{13, 1820},
	{36, 1821},
	{83, 1822},
	{82, 1823},
	{44, 1824},
	{46, 1825},
}

// Provider subtype codes -> property_type term ids.
var subtypeTermPairs = [...][2]int{
	{2, 1051},
	{4, 665},
	{5, 459},
	{8, 1786},
	{9, 665},
	{12, 665},
	{14, 1788},
	{44, 1787},
	{46, 1051},
	{49, 654},
	{68, 665},
}

var (
	featureTerms = fold(featureTermPairs[:])
	subtypeTerms = fold(subtypeTermPairs[:])
)

func fold(pairs [][2]int) map[int]int {
	m := make(map[int]int, len(pairs))
	for _, p := range pairs {
		m[p[0]] = p[1]
	}
	return m
}

// FeatureTerms translates service codes, dropping unknown ones.
func FeatureTerms(codes []int) []int {
	var out []int
	for _, c := range codes {
		if t, ok := featureTerms[c]; ok {
			out = append(out, t)
		}
	}
	return out
}

// SubtypeTerm reports the property_type term for a subtype code.
func SubtypeTerm(code int) (int, bool) {
	t, ok := subtypeTerms[code]
	return t, ok
}
