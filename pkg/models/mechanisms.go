package models

// MechanismPreset describes one family of central-trick mechanisms offered
// to the planning stage.
type MechanismPreset struct {
	ID             string   `json:"id"`
	Label          string   `json:"label"`
	Description    string   `json:"description"`
	Keywords       []string `json:"keywords"`
	RealismHint    string   `json:"realismHint"`
	ValidatorGroup string   `json:"validatorGroup"`
}

// MechanismGroup holds the trigger words that identify a mechanism family
// in free text and the canonical vocabulary a complete mechanism
// description must contain.
type MechanismGroup struct {
	Triggers []string
	Requires []string
}

// MechanismPresets are the selectable central-trick families.
var MechanismPresets = []MechanismPreset{
	{
		ID:             "clockwork-orchestrator",
		Label:          "钟表齿轮连动机关",
		Description:    "通过钟表齿轮、发条与联动杆件构建延时或同步触发的机械机关。",
		Keywords:       []string{"齿轮", "发条", "钟表", "联动"},
		RealismHint:    "现实可利用发条驱动齿轮，通过连杆/重锤触发暗门或开关，常见于老式自鸣钟结构。",
		ValidatorGroup: "clockwork",
	},
	{
		ID:             "optical-phantom",
		Label:          "光影镜像错觉机关",
		Description:    "利用镜面、折射、投影等光学手段制造目击错觉或伪造不在场证明。",
		Keywords:       []string{"镜面", "折射", "投影", "光线"},
		RealismHint:    "可通过半透镜+投影仪或偏振玻璃制造虚像，需要稳定光源与固定观察角度支撑。",
		ValidatorGroup: "optical-illusion",
	},
	{
		ID:             "pressure-siphon",
		Label:          "压力与管道触发机关",
		Description:    "借助蒸汽、气压或液压差异，通过阀门与管道系统触发远程行动。",
		Keywords:       []string{"压力", "蒸汽", "管道", "阀门"},
		RealismHint:    "蒸汽锅炉、虹吸或气压罐均可实现远程推力，需预先充能并用阀门控制时机。",
		ValidatorGroup: "pressure-trigger",
	},
	{
		ID:             "electro-magnetic-web",
		Label:          "电磁感应机关",
		Description:    "利用线圈、电流与磁场变化，实现隐蔽的吸附、脱扣或触发动作。",
		Keywords:       []string{"电磁", "磁场", "线圈", "电流"},
		RealismHint:    "定时通断电可以让电磁铁吸附或释放金属件，常用于门禁与工业机械。",
		ValidatorGroup: "electro-magnetic",
	},
	{
		ID:             "chemical-latency",
		Label:          "化学缓释机关",
		Description:    "通过药剂、缓释材料或氧化反应制造延时触发或伪装现象。",
		Keywords:       []string{"药剂", "缓释", "化学", "溶剂"},
		RealismHint:    "缓释胶囊、定时腐蚀丝线等均可实现延迟触发，需要控制温度与药剂浓度。",
		ValidatorGroup: "chemical-delay",
	},
	{
		ID:             "acoustic-resonator",
		Label:          "声学共振迷局",
		Description:    "利用隐蔽的音叉、共鸣腔与管道制造定向声波或回声，伪造目击证词。",
		Keywords:       []string{"共鸣", "声波", "音叉", "回声"},
		RealismHint:    "乐器音箱、风道或音叉可在特定频率放大声音，需准备共鸣腔体与反射面。",
		ValidatorGroup: "acoustic-resonance",
	},
	{
		ID:             "thermal-switch",
		Label:          "温差触发机关",
		Description:    "通过金属热胀冷缩、易熔合金或蜡封，实现延迟开锁或断绳等动作。",
		Keywords:       []string{"温度", "熔点", "金属", "蜡封"},
		RealismHint:    "低熔点合金、蜡封或双金属片可在设定温度松脱锁扣，常用于消防或测温装置。",
		ValidatorGroup: "thermal-trigger",
	},
	{
		ID:             "psychological-misdirect",
		Label:          "心理暗示操控",
		Description:    "借助角色心理弱点、暗示或催眠记录引导错误判断，形成假不在场证明。",
		Keywords:       []string{"心理", "暗示", "记忆", "习惯"},
		RealismHint:    "需要先取得受害者信任或把握其习惯，利用暗示、道具或录像误导判断。",
		ValidatorGroup: "psychological",
	},
	{
		ID:             "botanical-clock",
		Label:          "植物生长计时机关",
		Description:    "利用含羞草、藤蔓或花粉等植物生物钟制造时间差与证据误导。",
		Keywords:       []string{"植物", "藤蔓", "花粉", "含羞草"},
		RealismHint:    "需提前培育对光/触敏感的植物，并配合机械拉索或隐藏装置才能准确触发。",
		ValidatorGroup: "botanical",
	},
	{
		ID:             "remote-lever-network",
		Label:          "远程杠杆联动机关",
		Description:    "利用绳索、杠杆、配重与隐藏通道实现远程触发或伪装密室。",
		Keywords:       []string{"杠杆", "配重", "滑轮", "绳索"},
		RealismHint:    "舞台机械常见的滑轮+配重可跨房间传力，需隐藏绳索与转向滑轮。",
		ValidatorGroup: "remote-mechanism",
	},
}

// MechanismGroups maps each validator group to its trigger words and
// required canonical vocabulary.
var MechanismGroups = map[string]MechanismGroup{
	"remote-mechanism": {
		Triggers: []string{"远程", "密室", "自动", "遥控", "杠杆", "配重", "滑轮", "绳索", "暗道", "联动"},
		Requires: []string{"杠杆", "配重", "滑轮", "绳索", "机关", "联动"},
	},
	"clockwork": {
		Triggers: []string{"钟", "钟表", "齿轮", "发条", "联动", "齿条", "拨针"},
		Requires: []string{"齿轮", "发条", "联动"},
	},
	"optical-illusion": {
		Triggers: []string{"镜", "镜面", "折射", "投影", "光线", "幻影", "影像"},
		Requires: []string{"镜", "光", "折射"},
	},
	"pressure-trigger": {
		Triggers: []string{"压力", "气压", "水压", "蒸汽", "管道", "阀门", "虹吸"},
		Requires: []string{"压力", "管道", "阀", "差压"},
	},
	"electro-magnetic": {
		Triggers: []string{"电磁", "磁场", "线圈", "电流", "电路", "通电"},
		Requires: []string{"电磁", "线圈", "电流"},
	},
	"chemical-delay": {
		Triggers: []string{"化学", "药剂", "缓释", "氧化", "催化", "材料", "反应"},
		Requires: []string{"化学", "药剂", "缓释"},
	},
	"acoustic-resonance": {
		Triggers: []string{"声音", "回声", "共鸣", "音叉", "广播", "音道"},
		Requires: []string{"声音", "共鸣", "音"},
	},
	"thermal-trigger": {
		Triggers: []string{"温度", "热", "熔点", "蜡", "冰", "冷却", "加热"},
		Requires: []string{"温度", "热", "熔", "金属"},
	},
	"psychological": {
		Triggers: []string{"心理", "暗示", "记忆", "催眠", "情绪", "错觉"},
		Requires: []string{"心理", "暗示", "记忆"},
	},
	"botanical": {
		Triggers: []string{"植物", "藤蔓", "花粉", "种子", "生长", "树"},
		Requires: []string{"植物", "生长", "花粉"},
	},
}

// PickMechanismPreset deterministically selects a preset for a topic so
// that retries of the same workflow use the same mechanism family.
func PickMechanismPreset(topic string) MechanismPreset {
	var hash uint32
	for _, r := range topic {
		hash = hash*31 + uint32(r)
	}
	return MechanismPresets[int(hash)%len(MechanismPresets)]
}
