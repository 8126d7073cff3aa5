package listing

// feedSelectors locate the scrollable results container, most specific first.
var feedSelectors = []string{
	`[role="feed"]`,
	`.m6QErb.DxyBCb.kA9KIf.dS8AEf.XiKgde.ecceSd`,
	`div[aria-label^="Hasil"][role="main"]`,
	`div[aria-label^="Results"][role="main"]`,
}

// collectScript gathers every rendered result card as a JSON array of
// model.RawCandidate. Cards are keyed by their place link; field heuristics
// run in Go.
const collectScript = `() => {
	const out = [];
	const seen = new Set();
	const nodes = document.querySelectorAll('.Nv2PK, div[role="article"], a[href*="/maps/place"]');
	for (const node of nodes) {
		const link = node.tagName === 'A' ? node : node.querySelector('a[href*="/maps/place"]');
		if (!link || !link.href) continue;
		let card = node;
		if (node.tagName === 'A') {
			const closest = node.closest('.Nv2PK, div[role="article"]');
			if (closest) card = closest;
		}
		if (seen.has(link.href)) continue;
		seen.add(link.href);
		const headline = card.querySelector('.fontHeadlineSmall, .qBF1Pd, .hfV9m');
		const bold = card.querySelector('div.fontHeadlineSmall');
		out.push({
			text: card.innerText || '',
			label: card.getAttribute('aria-label') || '',
			headline: headline ? headline.textContent.trim() : '',
			link_label: link.getAttribute('aria-label') || '',
			bold: bold ? bold.textContent.trim() : '',
			reference_link: link.href,
			links: Array.from(card.querySelectorAll('a')).map(a => a.href).filter(Boolean),
		});
	}
	return JSON.stringify(out);
}`

// scrollScript scrolls the feed container (this) to its bottom.
const scrollScript = `() => { this.scrollTop = this.scrollHeight; }`
