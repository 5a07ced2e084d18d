package significance

// CategoryPatterns is the pattern list for one impact category.
type CategoryPatterns struct {
	Category Category `yaml:"category" json:"category"`
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// Vocabulary is the inspectable pattern table behind the three predicates.
// Every entry is a case-insensitive regular expression.
type Vocabulary struct {
	// Impact classifies the subject of a statement into long-lived
	// consequence categories. Categories are checked in order.
	Impact []CategoryPatterns `yaml:"impact" json:"impact"`

	// TradeOffs are phrases that state a reason, cost or benefit.
	TradeOffs []string `yaml:"trade_offs" json:"trade_offs"`

	// CrossCutting are phrases that tag an effect as spanning components.
	CrossCutting []string `yaml:"cross_cutting" json:"cross_cutting"`

	// Localized are phrases that tag an effect as local. They veto a scope
	// that rests only on a cross-cutting phrase, so each names a local
	// subject rather than matching the bare word "local".
	Localized []string `yaml:"localized" json:"localized"`

	// CrossCuttingSections are headings whose statements are cross-cutting
	// by placement. Empty by default.
	CrossCuttingSections []string `yaml:"cross_cutting_sections" json:"cross_cutting_sections,omitempty"`
}

// DefaultVocabulary returns the built-in pattern table.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Impact: []CategoryPatterns{
			{
				Category: CategoryArchitecture,
				Patterns: []string{
					`\barchitect(?:ure|ural)\b`,
					`\bmicro-?services?\b`,
					`\bmonolith(?:ic)?\b`,
					`\bevent[- ]driven\b`,
					`\bevent sourcing\b`,
					`\bcqrs\b`,
					`\bmessage (?:bus|broker|queue)s?\b`,
					`\bservice boundar(?:y|ies)\b`,
					`\bapi (?:design|gateway|contract|style)\b`,
					`\b(?:rest|graphql|grpc|websockets?)\b`,
					`\b(?:a)?synchronous (?:calls?|processing|communication|messaging)\b`,
					`\bprotocol\b`,
					`\bdata ?model\b`,
					`\bschema\b`,
					`\bframework\b`,
					`\blayer(?:ed|ing)?\b`,
				},
			},
			{
				Category: CategoryPlatform,
				Patterns: []string{
					`\bdatabases?\b`,
					`\bdata ?stores?\b`,
					`\b(?:postgres(?:ql)?|mysql|mariadb|sqlite|mongo(?:db)?|dynamo(?:db)?|cassandra|redis|elasticsearch|opensearch|bigquery|snowflake)\b`,
					`\b(?:kafka|rabbitmq|nats|sqs|pub/?sub)\b`,
					`\bcloud\b`,
					`\b(?:aws|gcp|azure)\b`,
					`\b(?:kubernetes|k8s|docker|containers?)\b`,
					`\bserverless\b`,
					`\b(?:programming )?language\b`,
					`\bruntime\b`,
					`\b(?:golang|rust|java|kotlin|python|node\.?js|typescript)\b`,
					`\bhosting\b`,
					`\borm\b`,
					`\bstorage engine\b`,
				},
			},
			{
				Category: CategorySecurity,
				Patterns: []string{
					`\bauth(?:entication|orization|n|z)?\b`,
					`\boauth2?\b`,
					`\b(?:jwt|saml|sso|oidc)\b`,
					`\bencrypt(?:ion|ed)?\b`,
					`\bm?tls\b`,
					`\bsecrets?\b`,
					`\bcredentials?\b`,
					`\bpermissions?\b`,
					`\brbac\b`,
					`\bpii\b`,
					`\b(?:compliance|gdpr|hipaa|soc ?2)\b`,
					`\bvulnerab(?:le|ility|ilities)\b`,
					`\baudit (?:log|trail)s?\b`,
					`\bsecurity\b`,
				},
			},
			{
				Category: CategoryPerformanceAtScale,
				Patterns: []string{
					`\bscal(?:e|es|ing|ability|able)\b`,
					`\bthroughput\b`,
					`\blatency\b`,
					`\bcach(?:e|es|ing)\b`,
					`\bshard(?:s|ing)?\b`,
					`\bpartition(?:s|ing)?\b`,
					`\breplica(?:s|tion)?\b`,
					`\bload[- ]balanc(?:er|ing)\b`,
					`\bhigh[- ]availability\b`,
					`\b(?:qps|rps|tps)\b`,
					`\bmillions? of\b`,
					`\bperformance\b`,
					`\bconcurren(?:t|cy)\b`,
				},
			},
			{
				Category: CategoryMaintainability,
				Patterns: []string{
					`\bmaintainab(?:le|ility)\b`,
					`\b(?:technical|tech) debt\b`,
					`\bmodular(?:ity)?\b`,
					`\b(?:de)?coupl(?:ed|ing)\b`,
					`\bcohesion\b`,
					`\bmono-?repo\b`,
					`\bdependency injection\b`,
					`\bplugin (?:architecture|system)\b`,
					`\bbackward(?:s)? compatib(?:le|ility)\b`,
					`\bdeprecat(?:e|ed|ion)\b`,
					`\bmigration (?:path|strategy)\b`,
					`\bversioning\b`,
					`\btest(?:ing)? strategy\b`,
					`\bobservability\b`,
				},
			},
		},
		TradeOffs: []string{
			`\bbecause\b`,
			`\bdue to\b`,
			`\btrade-?offs?\b`,
			`\bpros?\b`,
			`\bcons\b`,
			`\b(?:dis)?advantages?\b`,
			`\bbenefits?\b`,
			`\bdrawbacks?\b`,
			`\b(?:down|up)sides?\b`,
			`\bcosts?\b`,
			`\bat the expense of\b`,
			`\blimitations?\b`,
			`\bwhereas\b`,
			`\bbut\b`,
			`\bhowever\b`,
			`\bin exchange for\b`,
			`\bso that\b`,
			`\block-?in\b`,
			`\boverhead\b`,
			`\b(?:better|worse|faster|slower|cheaper|simpler|easier|harder|safer|riskier)\b`,
			`\bmore (?:complex|expensive|reliable|scalable|flexible)\b`,
			`\bfor (?:its |their |the )?(?:\w+[- ]){0,3}(?:guarantees?|consistency|durability|performance|latency|throughput|simplicity|safety|isolation|reliability|compatibility|scalability|flexibility|ecosystem|maturity|support|familiarity)\b`,
		},
		CrossCutting: []string{
			`\ball (?:\w+ )?(?:services|components|modules|teams|systems|apps|applications|clients|consumers|endpoints|packages|repos(?:itories)?|features)\b`,
			`\bacross (?:all|every|multiple|several|teams|services|components|modules|the (?:whole|entire) \w+|the (?:system|platform|organi[sz]ation|codebase|stack))\b`,
			`\b(?:system|platform|org(?:ani[sz]ation)?|company|project|repo)[- ]wide\b`,
			`\bcross[- ]cutting\b`,
			`\bglobal(?:ly)?\b`,
			`\bevery (?:service|component|module|team|request|endpoint|package)\b`,
			`\bshared (?:by|across|between)\b`,
			`\b(?:each|both|multiple|several) (?:services|components|modules|teams)\b`,
		},
		Localized: []string{
			`\blocal (?:variable|function|method|helper|constant|change|refactor(?:ing)?|fix|rename)s?\b`,
			`\b(?:local|internal) to (?:this|the|one|a single)\b`,
			`\bsingle (?:function|file|module|class|method|component|service|package|handler)\b`,
			`\bone (?:file|function|method|class|module)\b`,
			`\bonly (?:in|for|within|affects?) (?:this|the|one|a single)\b`,
			`\bprivate (?:helper|function|method|field)\b`,
			`\bwithin (?:this|the|a) (?:module|file|function|class|package|handler)\b`,
		},
	}
}
