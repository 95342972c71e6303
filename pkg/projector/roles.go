package projector

// Roles inferred from the champion when the payload carries no role.
const (
	RoleTop     = "TOP"
	RoleJungle  = "JNG"
	RoleMid     = "MID"
	RoleADC     = "ADC"
	RoleSupport = "SUP"
	RoleUnknown = "UNKNOWN"
)

var championRoles = buildRoleIndex(map[string][]string{
	RoleTop: {
		"Aatrox", "Ambessa", "Aurora", "Camille", "Cho'Gath", "Darius", "Dr. Mundo", "Fiora",
		"Gangplank", "Garen", "Gnar", "Gragas", "Gwen", "Illaoi", "Irelia", "Jax", "Jayce",
		"K'Sante", "Kayle", "Kennen", "Kled", "Malphite", "Mordekaiser", "Nasus", "Olaf",
		"Ornn", "Quinn", "Renekton", "Riven", "Rumble", "Sett", "Shen", "Singed", "Sion",
		"Tahm Kench", "Teemo", "Trundle", "Tryndamere", "Urgot", "Volibear", "Warwick",
		"Wukong", "Yasuo", "Yone", "Yorick",
	},
	RoleJungle: {
		"Amumu", "Bel'Veth", "Brand", "Briar", "Diana", "Ekko", "Elise", "Evelynn",
		"Fiddlesticks", "Graves", "Hecarim", "Ivern", "Jarvan IV", "Karthus", "Kayn",
		"Kha'Zix", "Kindred", "Lee Sin", "Lillia", "Maokai", "Master Yi", "Nidalee",
		"Nocturne", "Nunu & Willump", "Poppy", "Rek'Sai", "Rengar", "Sejuani", "Shaco",
		"Shyvana", "Skarner", "Talon", "Udyr", "Vi", "Viego", "Xin Zhao", "Zac",
	},
	RoleMid: {
		"Ahri", "Akali", "Akshan", "Anivia", "Annie", "Aurelion Sol", "Azir", "Cassiopeia",
		"Corki", "Fizz", "Galio", "Hwei", "Kassadin", "Katarina", "LeBlanc", "Lissandra",
		"Lux", "Malzahar", "Naafiri", "Neeko", "Orianna", "Qiyana", "Ryze", "Syndra",
		"Sylas", "Taliyah", "Twisted Fate", "Veigar", "Vex", "Viktor", "Vladimir",
		"Xerath", "Zed", "Ziggs", "Zoe",
	},
	RoleADC: {
		"Aphelios", "Ashe", "Caitlyn", "Draven", "Ezreal", "Jhin", "Jinx", "Kai'Sa",
		"Kalista", "Kog'Maw", "Lucian", "Miss Fortune", "Nilah", "Samira", "Senna",
		"Sivir", "Smolder", "Tristana", "Twitch", "Varus", "Vayne", "Xayah", "Zeri",
	},
	RoleSupport: {
		"Alistar", "Bard", "Blitzcrank", "Braum", "Janna", "Karma", "Leona", "Lulu",
		"Milio", "Morgana", "Nami", "Nautilus", "Pyke", "Rakan", "Rell", "Renata Glasc",
		"Seraphine", "Sona", "Soraka", "Taric", "Thresh", "Yuumi", "Zilean", "Zyra",
	},
})

func buildRoleIndex(byRole map[string][]string) map[string]string {
	index := make(map[string]string)
	for role, champions := range byRole {
		for _, c := range champions {
			index[c] = role
		}
	}
	return index
}

// InferRole returns the usual role of a champion, or RoleUnknown.
func InferRole(champion string) string {
	if role, ok := championRoles[champion]; ok {
		return role
	}
	return RoleUnknown
}
