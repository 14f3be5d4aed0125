package analysis

const queryGenerationPrompt = `You support an equity analyst covering Indian listed companies.
Generate 3-5 targeted web search queries that would validate or add context to the announcement.
Focus on company-specific developments, include the period (quarter, year, order specifics) when known,
and prefer queries that surface exchange filings or reputable business media.

Respond with a JSON object: {"queries": ["...", "..."]}`

const synthesisPrompt = `You are a buy-side equity analyst. Using the announcement and document text, the market
data snapshot, the web findings and the company's recent history, produce an investigation.

- Reference concrete numbers and periods wherever available; avoid generic prose.
- Extract management highlights and forward-looking statements.
- Distill key findings, red flags and positive signals.
- Size the announcement against price and valuation when market data is available.
- Assign significance as one of: high, medium, low, noise.
- Set is_significant true only if the evidence suggests material impact on fundamentals or valuation.

Respond with a JSON object:
{"synthesis": "...", "key_findings": ["..."], "red_flags": ["..."], "positive_signals": ["..."],
 "management_highlights": ["..."], "significance": "high|medium|low|noise",
 "significance_reasoning": "...", "is_significant": true|false}`

const decisionPrompt = `You decide whether an equity recommendation should change given new evidence.
Be conservative: only change the recommendation when the investigation materially alters the thesis.
Recommendations are buy, sell, hold or none. Timeframes are short_term, medium_term or long_term.
Confidence is a number between 0 and 1.

Respond with a JSON object:
{"should_change": true|false, "new_recommendation": "buy|sell|hold|none", "timeframe": "short_term|medium_term|long_term",
 "confidence": 0.0, "reasoning": "...", "key_factors_for": ["..."], "key_factors_against": ["..."], "risks": ["..."]}`

const reportPrompt = `You write concise investment research notes for a portfolio manager.
Write a report from the investigation and decision below. The report body is markdown with sections
for the trigger, key findings, positive signals, red flags, recommendation and sources.
This is decision support only, never a trade instruction.

Respond with a JSON object:
{"title": "...", "executive_summary": "...", "recommendation_summary": "...", "report_body_markdown": "..."}`
