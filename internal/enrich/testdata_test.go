package enrich

const hqImage = "https://s3.amazonaws.com/static.militarytimes.com/thefallen/doe-hq.jpg"

const profilePage = `<html><head><title>Honor the Fallen</title>
<script>var branch = "Marine Corps";</script></head>
<body>
<nav>Army Times | Navy Times | Marine Corps Times</nav>
<div class="content-div">
  <h1>Army Staff Sgt. John A. Doe</h1>
  <div class="record-image"><img src="` + hqImage + `"></div>
  <p>Died June 16, 2004 serving during Operation Iraqi Freedom</p>
  <p>Staff Sgt. John A. Doe, 27, of St. Louis, Mo.; assigned to the 2nd Battalion,
  5th Cavalry Regiment, 1st Cavalry Division, Fort Hood, Texas; killed June 16 in Baghdad, Iraq,
  when an improvised explosive device detonated near his vehicle. He is survived by his wife.</p>
</div>
<footer>Copyright Sightline Media Group</footer>
</body></html>`

const regionlessPage = `<html><body>
<h1>Army Staff Sgt. John A. Doe</h1>
<p>Staff Sgt. John A. Doe, 27, of St. Louis, Mo.; assigned to the 2nd Battalion, 5th Cavalry Regiment;
killed in Baghdad, Iraq during Operation Iraqi Freedom.</p>
<img src="` + hqImage + `">
</body></html>`
