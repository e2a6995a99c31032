package citation

import "strings"

// tractates maps each canonical tractate spelling to the transliterations
// users and extraction runs have been seen to produce for it.
var tractates = map[string][]string{
	// Zeraim
	"berakhot": {"brachot", "berachot", "brakhot", "berachos", "brachos", "berakot", "brochos"},
	"peah":     {"pea", "peiah"},
	"demai":    {"dmai", "demay"},
	"kilayim":  {"kilaim", "kilaayim", "kelayim"},
	"sheviit":  {"shviit", "shevis", "sheviis"},
	"terumot":  {"trumot", "terumos", "terumoth"},
	"maaserot": {"maasrot", "maaseros", "maasros"},
	"challah":  {"hallah", "chala", "chalah", "halla"},
	"orlah":    {"orla"},
	"bikkurim": {"bikurim", "bicurim"},

	// Moed
	"shabbos":       {"shabbat", "shabbes", "shabat", "shabbath", "sabbath"},
	"eruvin":        {"eiruvin", "erubin", "eruvim"},
	"pesachim":      {"pesahim", "psachim", "pesakhim"},
	"shekalim":      {"shkalim", "sheqalim"},
	"yuma":          {"yoma"},
	"sukkah":        {"sukka", "succah", "suka", "sukah"},
	"beitzah":       {"beitza", "betzah", "beiza", "betza", "beza", "beitsah"},
	"rosh hashanah": {"rosh hashana", "rosh hashonah", "rosh hashono", "rosh ha shanah"},
	"taanit":        {"taanis", "taanith", "tanit"},
	"megillah":      {"megilla", "megila", "megilah"},
	"moed katan":    {"moed qatan", "moed kattan", "mashkin"},
	"chagigah":      {"hagigah", "chagiga", "hagiga", "chagigo"},

	// Nashim
	"yevamot":   {"yevamos", "yebamot", "yevamoth"},
	"ketubot":   {"ketubos", "kesubos", "ketuboth", "ketubbot", "kethuboth", "ketuvot"},
	"nedarim":   {"nedorim"},
	"nazir":     {"nozir"},
	"sotah":     {"sota", "soteh"},
	"gittin":    {"gitin", "gittim"},
	"kiddushin": {"kidushin", "qiddushin", "kiddushim"},

	// Nezikin
	"bava kamma":   {"baba kamma", "bava qamma", "baba qamma", "bava kama", "baba kama"},
	"bava metzia":  {"baba metzia", "bava metsia", "baba mezia", "bava metziah", "baba metsia", "bava mezia"},
	"bava batra":   {"baba batra", "bava basra", "baba bathra", "baba basra", "bava bathra"},
	"sanhedrin":    {"sanhedrim"},
	"makkot":       {"makkos", "makot", "makos"},
	"shevuot":      {"shevuos", "shvuot", "shevuoth"},
	"avodah zarah": {"avoda zara", "avodah zara", "avoda zarah", "avodo zoro", "abodah zarah"},
	"horayot":      {"horayos", "horiot", "horayoth"},

	// Kodashim
	"zevachim": {"zevahim", "zebahim", "zevakhim"},
	"menachot": {"menahot", "menachos", "menakhot"},
	"chullin":  {"hullin", "chulin", "hulin"},
	"bekhorot": {"bechorot", "bechoros", "bekhoros", "bekorot"},
	"arakhin":  {"arachin", "erchin", "arakin"},
	"temurah":  {"temura", "tmurah"},
	"keritot":  {"kritot", "kerisos", "kerithot", "kreisos"},
	"meilah":   {"meila", "meilo"},
	"tamid":    {"tomid"},

	// Tohorot
	"niddah": {"nidda", "nida", "nidah"},
}

// maxAliasTokens is the longest alias, in tokens, the matcher tries.
const maxAliasTokens = 3

// aliasIndex maps a space-joined alias to the canonical spelling's tokens.
var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string][]string {
	index := make(map[string][]string)
	for canonical, aliases := range tractates {
		tokens := strings.Fields(canonical)
		for _, alias := range aliases {
			alias = strings.Join(strings.Fields(alias), " ")
			if alias == canonical {
				continue
			}
			index[alias] = tokens
		}
	}
	return index
}

// Canonical resolves a single tractate name to its canonical spelling.
// The name is folded the same way citations are; unknown names are returned
// folded but otherwise unchanged.
func Canonical(name string) string {
	return Key(name)
}

// Tractates returns the canonical tractate spellings known to the alias table.
func Tractates() []string {
	names := make([]string, 0, len(tractates))
	for name := range tractates {
		names = append(names, name)
	}
	return names
}

// replaceAliases rewrites tractate aliases in a token stream, preferring the
// longest alias that starts at each position.
func replaceAliases(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		matched := false
		for n := min(maxAliasTokens, len(tokens)-i); n > 0; n-- {
			if canonical, ok := aliasIndex[strings.Join(tokens[i:i+n], " ")]; ok {
				out = append(out, canonical...)
				i += n
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}
	return out
}
