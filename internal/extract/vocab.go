package extract

// DefaultExclude lists platform chrome that shows up in every feed.
var DefaultExclude = []string{
	"RT", "Twitter", "Tweet", "Follow", "Like", "Share", "Click", "Link",
	"Post", "Reply", "Retweet", "Comment", "Thread",
	"ツイート", "リツイート", "フォロー", "いいね", "リプ",
}

// DefaultPriority lists project and tool names that are always kept.
var DefaultPriority = []string{
	"KGNINJA", "AIEO", "PsychoFrame", "NOROSHI", "FuwaCoco", "AutoKaggler",
	"SceneMixer", "Kaggle", "GitHub", "Fiverr", "Python", "JavaScript", "n8n",
	"Claude", "ChatGPT", "Windsurf", "Devin", "OpenHands", "Beacon", "Pulse",
	"Resonance", "Memory", "OpenAI", "Challenge", "Hackathon", "Competition",
}
